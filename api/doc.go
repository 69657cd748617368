// Copyright (c) BrowserFlow Authors.
// Licensed under the MIT License.

// Package api holds the request and response types of the BrowserFlow
// control API.
//
// # API Overview
//
// The control API exposes:
//   - Navigation: POST /api/v1/navigate
//   - Stored sessions: list, inspect and delete
//   - Registered plugins and running browser instances
//   - Runtime configuration with hot reload
//   - A websocket stream of lifecycle events
//   - Health probes and Prometheus metrics
//
// # Authentication
//
// When API keys or a JWT secret are configured, requests must carry either
//
//	X-API-Key: your-api-key
//
// or
//
//	Authorization: Bearer <jwt>
//
// # Base URL
//
//	http://localhost:8080
package api
