package lstore

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
	"github.com/datasafe/papl/lib/store"
)

// Operation names used as the op label of the store metrics
const (
	opSave            = "save"
	opGet             = "get"
	opVersion         = "version"
	opVersionAndValue = "version_and_value"
	opDelete          = "delete"
	opKeys            = "keys"
	opKeysPageable    = "keys_pageable"
	opEvict           = "evict"
	opCount           = "count"
	opExport          = "export"
	opImport          = "import"
	opInfo            = "info"
	opClose           = "close"
)

// observe records count, latency and (if err is set) the error code of one operation
// in the default VictoriaMetrics set.
func observe(op string, start time.Time, err error) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`papl_store_ops_total{op=%q}`, op)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`papl_store_op_duration_seconds{op=%q}`, op)).UpdateDuration(start)

	if err == nil {
		return
	}
	code := store.RetCInternalError
	var storeErr *store.Error
	if errors.As(err, &storeErr) {
		code = storeErr.Code
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`papl_store_errors_total{op=%q,code=%q}`, op, code)).Inc()
}

// WriteMetrics writes all store metrics in the Prometheus text format to w.
// If withProcess is set, process metrics (memory, cpu, goroutines) are included.
func WriteMetrics(w io.Writer, withProcess bool) {
	metrics.WritePrometheus(w, withProcess)
}
