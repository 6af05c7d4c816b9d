/*
Copyright 2023-2024 EscherCloud.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package storage

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/eschercloudai/caravel/pkg/errors"
	"github.com/eschercloudai/caravel/pkg/plan"
	"github.com/eschercloudai/caravel/pkg/template"
)

//nolint:gochecknoglobals
var (
	bucketPlans           = []byte("plans")
	bucketTemplates       = []byte("plan_template")
	bucketStacks          = []byte("plan_stack")
	bucketClonedResources = []byte("plan_cloned_resources")
	bucketAZMaps          = []byte("plan_availability_zone_mapper")
)

// BoltStore implements Store on an embedded key value database.  Rows are
// JSON encoded, one bucket per table.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) the database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	db, err := bolt.Open(filepath.Join(dataDir, "caravel.db"), 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketPlans,
			bucketTemplates,
			bucketStacks,
			bucketClonedResources,
			bucketAZMaps,
		}

		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}

		return nil
	})
	if err != nil {
		db.Close()

		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) put(bucket []byte, key string, value interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}

		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) get(bucket []byte, key string, value interface{}) error {
	return s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucket).Get([]byte(key))
		if data == nil {
			return fmt.Errorf("%w: %s", errors.ErrPlanNotFound, key)
		}

		return json.Unmarshal(data, value)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

// CreatePlan persists a new plan row.
func (s *BoltStore) CreatePlan(p *plan.Plan) error {
	return s.put(bucketPlans, p.ID, p)
}

// GetPlan reads a plan row.
func (s *BoltStore) GetPlan(id string) (*plan.Plan, error) {
	p := &plan.Plan{}
	if err := s.get(bucketPlans, id, p); err != nil {
		return nil, err
	}

	return p, nil
}

// ListPlans reads every plan row.
func (s *BoltStore) ListPlans() ([]*plan.Plan, error) {
	var plans []*plan.Plan

	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).ForEach(func(k, v []byte) error {
			p := &plan.Plan{}
			if err := json.Unmarshal(v, p); err != nil {
				return err
			}

			plans = append(plans, p)

			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	return plans, nil
}

// UpdatePlan upserts a plan row.
func (s *BoltStore) UpdatePlan(p *plan.Plan) error {
	return s.CreatePlan(p)
}

// DeletePlan removes a plan row, succeeding when absent.
func (s *BoltStore) DeletePlan(id string) error {
	return s.delete(bucketPlans, id)
}

// PutTemplate persists the exported template for a plan.
func (s *BoltStore) PutTemplate(planID string, t *template.Template) error {
	return s.put(bucketTemplates, planID, t)
}

// GetTemplate reads the exported template for a plan.
func (s *BoltStore) GetTemplate(planID string) (*template.Template, error) {
	t := &template.Template{}
	if err := s.get(bucketTemplates, planID, t); err != nil {
		return nil, err
	}

	return t, nil
}

// DeleteTemplate removes the exported template, succeeding when absent.
func (s *BoltStore) DeleteTemplate(planID string) error {
	return s.delete(bucketTemplates, planID)
}

// PutStack records the stack a plan deployed.
func (s *BoltStore) PutStack(planID, stackID string) error {
	return s.put(bucketStacks, planID, stackID)
}

// GetStack reads the stack linkage for a plan.
func (s *BoltStore) GetStack(planID string) (string, error) {
	var stackID string
	if err := s.get(bucketStacks, planID, &stackID); err != nil {
		return "", err
	}

	return stackID, nil
}

// DeleteStack removes the stack linkage, succeeding when absent.
func (s *BoltStore) DeleteStack(planID string) error {
	return s.delete(bucketStacks, planID)
}

// PutClonedResources records what a clone produced.
func (s *BoltStore) PutClonedResources(planID string, resources *ClonedResources) error {
	return s.put(bucketClonedResources, planID, resources)
}

// GetClonedResources reads what a clone produced.
func (s *BoltStore) GetClonedResources(planID string) (*ClonedResources, error) {
	resources := &ClonedResources{}
	if err := s.get(bucketClonedResources, planID, resources); err != nil {
		return nil, err
	}

	return resources, nil
}

// DeleteClonedResources removes clone bookkeeping, succeeding when absent.
func (s *BoltStore) DeleteClonedResources(planID string) error {
	return s.delete(bucketClonedResources, planID)
}

// PutAvailabilityZoneMap records the source to destination zone mapping.
func (s *BoltStore) PutAvailabilityZoneMap(planID string, azMap map[string]string) error {
	return s.put(bucketAZMaps, planID, azMap)
}

// GetAvailabilityZoneMap reads the zone mapping for a plan.
func (s *BoltStore) GetAvailabilityZoneMap(planID string) (map[string]string, error) {
	azMap := map[string]string{}
	if err := s.get(bucketAZMaps, planID, &azMap); err != nil {
		return nil, err
	}

	return azMap, nil
}

// DeleteAvailabilityZoneMap removes the zone mapping, succeeding when absent.
func (s *BoltStore) DeleteAvailabilityZoneMap(planID string) error {
	return s.delete(bucketAZMaps, planID)
}
