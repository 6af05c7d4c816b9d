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

package driver

import (
	"context"
)

// Data transfer states the agent reports.
const (
	DataTransRunning  = "DATA_TRANSFORMING"
	DataTransFinished = "DATA_TRANS_FINISHED"
	DataTransFailed   = "DATA_TRANS_FAILED"
)

// CloneVolumeOpts parameterizes one device to device transfer.
type CloneVolumeOpts struct {
	// SrcDev is the source block device on the source gateway.
	SrcDev string

	// DestDev is the destination block device on the destination
	// gateway.
	DestDev string

	// SrcGatewayURL is where the destination agent pulls bytes from.
	SrcGatewayURL string

	// Format is the source filesystem format, empty for a raw copy.
	Format string

	// MountPoint is where the destination mounts the device after the
	// transfer, empty to leave it unmounted.
	MountPoint string
}

// Agent is the in-guest data copy service hosted on each gateway VM,
// addressed by the gateway endpoint URL.
type Agent interface {
	// GetDiskName lists the block devices visible on the gateway.
	GetDiskName(ctx context.Context, gatewayURL string) ([]string, error)

	// GetDiskFormat reports the filesystem format of a device.
	GetDiskFormat(ctx context.Context, gatewayURL, device string) (string, error)

	// GetDiskMountPoint reports where a device is mounted, empty when
	// it isn't.
	GetDiskMountPoint(ctx context.Context, gatewayURL, device string) (string, error)

	// ForceMountDisk mounts a device at the given point, creating it.
	ForceMountDisk(ctx context.Context, gatewayURL, device, mountPoint string) error

	// CloneVolume starts a transfer and returns a task id to poll.
	CloneVolume(ctx context.Context, gatewayURL string, opts *CloneVolumeOpts) (string, error)

	// GetDataTransStatus reports the state of a transfer task.
	GetDataTransStatus(ctx context.Context, gatewayURL, taskID string) (string, error)
}
