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

package main

import (
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// goApache2LicenseHeader matches a license header, with the copyright
// years allowed to vary per file.
//
//nolint:gochecknoglobals
var goApache2LicenseHeader = regexp.MustCompile(`^/\*
Copyright 20[0-9]{2}(-20[0-9]{2})? EscherCloud\.

Licensed under the Apache License, Version 2\.0`)

var (
	// errFail tells you there was an error detected.
	errFail = errors.New("errors detected")

	// errNoComments tells you you've not commented anything, bad engineer.
	errNoComments = errors.New("file contains no comments")

	// errFirstCommentNotLicense tells you that the first comment isn't a license.
	errFirstCommentNotLicense = errors.New("first comment not a valid license")
)

// glob does a recursive walk of the working directory, returning all files that
// match the provided extension e.g. ".go".
func glob(extension string) ([]string, error) {
	var files []string

	appendFileWithExtension := func(path string, f os.FileInfo, err error) error {
		if f.IsDir() {
			return nil
		}

		if filepath.Ext(path) != extension {
			return nil
		}

		files = append(files, path)

		return nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}

	if err := filepath.Walk(wd, appendFileWithExtension); err != nil {
		return nil, err
	}

	return files, nil
}

// checkGoLicenseFile parses a source file and checks there is a license header in there.
func checkGoLicenseFile(path string) error {
	fset := token.NewFileSet()

	ast, err := parser.ParseFile(fset, path, nil, parser.ParseComments)
	if err != nil {
		return err
	}

	// Generated and main package entry points that carry no comments at
	// all are reported too, every file gets a header.
	if len(ast.Comments) == 0 {
		return fmt.Errorf("%s: %w", path, errNoComments)
	}

	if !goApache2LicenseHeader.MatchString(ast.Comments[0].List[0].Text) {
		return fmt.Errorf("%s: %w", path, errFirstCommentNotLicense)
	}

	return nil
}

// checkGoLicense finds all go source files in the working directory, then parses them
// into an AST and checks there is a license header in there.
func checkGoLicense() error {
	paths, err := glob(".go")
	if err != nil {
		return err
	}

	var hasErrors bool

	for _, path := range paths {
		// Reference material is not ours to stamp.
		if strings.Contains(path, string(filepath.Separator)+"_examples"+string(filepath.Separator)) {
			continue
		}

		if err := checkGoLicenseFile(path); err != nil {
			fmt.Println(err)

			hasErrors = true
		}
	}

	if hasErrors {
		return errFail
	}

	return nil
}

// main runs any license checkers over the code.
func main() {
	if err := checkGoLicense(); err != nil {
		os.Exit(1)
	}
}
