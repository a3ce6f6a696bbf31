package redisx

import "time"

const (
	// Idempotent reserve: idem:reserve:{key} -> reservation_id
	KeyIdemReserve = "idem:reserve:%s"

	// Cache of product stock counters: product_stock:{product_id}
	KeyProductStock = "product_stock:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"

	// Reclaim pass advisory lock (overlapping passes are safe, the lock
	// just avoids wasted scans): lock:reclaim
	KeyReclaimLock = "lock:reclaim"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLStockCache  = 30 * time.Second
	TTLDedup       = 48 * time.Hour
	TTLReclaimLock = 30 * time.Second
)
