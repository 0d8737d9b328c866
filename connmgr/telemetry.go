// Copyright (C) 2025-2026 OpsGate, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package connmgr

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	evictionReasonCapacity = "capacity"
	evictionReasonExpired  = "expired"
)

var (
	cacheHits          metric.Int64Counter
	cacheMisses        metric.Int64Counter
	connectionOpens    metric.Int64Counter
	openFailures       metric.Int64Counter
	cacheEvictions     metric.Int64Counter
	cacheInvalidations metric.Int64Counter
)

func init() {
	meter := otel.Meter("github.com/opsgate/oms/connmgr")

	var err error

	cacheHits, err = meter.Int64Counter(
		"oms.tenant.connection_cache.hits",
		metric.WithDescription("Number of getClient calls served from a live cached connection"),
	)
	if err != nil {
		log.Fatalf("failed to create connection_cache.hits counter: %v", err)
	}

	cacheMisses, err = meter.Int64Counter(
		"oms.tenant.connection_cache.misses",
		metric.WithDescription("Number of getClient calls that had to open a connection"),
	)
	if err != nil {
		log.Fatalf("failed to create connection_cache.misses counter: %v", err)
	}

	connectionOpens, err = meter.Int64Counter(
		"oms.tenant.connection_cache.opens",
		metric.WithDescription("Number of tenant database connections opened"),
	)
	if err != nil {
		log.Fatalf("failed to create connection_cache.opens counter: %v", err)
	}

	openFailures, err = meter.Int64Counter(
		"oms.tenant.connection_cache.open_failures",
		metric.WithDescription("Number of tenant database connection opens that failed"),
	)
	if err != nil {
		log.Fatalf("failed to create connection_cache.open_failures counter: %v", err)
	}

	cacheEvictions, err = meter.Int64Counter(
		"oms.tenant.connection_cache.evictions",
		metric.WithDescription("Number of cached connections evicted, by reason"),
	)
	if err != nil {
		log.Fatalf("failed to create connection_cache.evictions counter: %v", err)
	}

	cacheInvalidations, err = meter.Int64Counter(
		"oms.tenant.connection_cache.invalidations",
		metric.WithDescription("Number of explicit cache invalidations"),
	)
	if err != nil {
		log.Fatalf("failed to create connection_cache.invalidations counter: %v", err)
	}
}

// registerEntriesGauge reports the cache's live entry count.
func registerEntriesGauge(c interface{ Len() int }) {
	meter := otel.Meter("github.com/opsgate/oms/connmgr")
	_, err := meter.Int64ObservableGauge(
		"oms.tenant.connection_cache.entries",
		metric.WithDescription("Number of live cached tenant connections"),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(int64(c.Len()))
			return nil
		}),
	)
	if err != nil {
		log.Fatalf("failed to create connection_cache.entries gauge: %v", err)
	}
}

func recordCacheHit() {
	cacheHits.Add(context.Background(), 1)
}

func recordCacheMiss() {
	cacheMisses.Add(context.Background(), 1)
}

func recordOpen() {
	connectionOpens.Add(context.Background(), 1)
}

func recordOpenFailure() {
	openFailures.Add(context.Background(), 1)
}

func recordEviction(reason string) {
	cacheEvictions.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("reason", reason)))
}

func recordInvalidation() {
	cacheInvalidations.Add(context.Background(), 1)
}
