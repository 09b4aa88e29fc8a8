// Package version reports the build of the running binary:
//
//	go build -ldflags "-X github.com/kbukum/fanout/version.Version=1.0.0" ./cmd/fanoutd
package version
