package main

import "time"

const (
	serviceName           = "normalizer"
	defaultPublishTimeout = 5 * time.Second
)
