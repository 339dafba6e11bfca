/*
Package monitoring provides performance monitoring and metrics collection.

# Overview

This package implements Prometheus-based metrics collection for the gateway,
tracking HTTP requests, kernel control calls, stream connection state and
session lifecycle.

# Features

- HTTP request metrics (latency, throughput, size)
- Kernel control call metrics (duration, status)
- Stream metrics (state transitions, reconnects, frames, redeliveries)
- Session metrics (live sessions, subscribers, snapshots, errors by kind)
- WebSocket relay metrics

# Usage

	metrics := monitoring.NewMetrics(nil)
	router.Use(monitoring.Middleware(metrics))

	timer := monitoring.NewTimer(metrics, "rest", "interrupt")
	// ... perform call ...
	timer.Stop("success")

# Metrics Endpoint

	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
