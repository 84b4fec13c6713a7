package main

// Version metadata is injected at build time:
//
//	go build -ldflags "-X github.com/ternarybob/faber/internal/common.Version=$(cat .version)"
//
// The common package holds the variables so both the banner and the -version
// flag read the same values.
