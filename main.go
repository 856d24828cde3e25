// SPDX-FileCopyrightText: 2026 The hoptrace authors
//
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"github.com/hoptrace/hoptrace/cmd"
)

// version is the current version of hoptrace.
// It is set at build time by using -ldflags "-X main.version=x.x.x".
var version string

func main() {
	cmd.Execute(version)
}
