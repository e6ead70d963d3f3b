package web

import "embed"

// staticFiles holds the teleoperation page, its script and stylesheet.
//
//go:embed static/*
var staticFiles embed.FS
