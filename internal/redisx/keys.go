package redisx

import "time"

const (
	// Idempotency create order: idem:order:create:{key} -> {state, fingerprint, body}
	KeyIdemOrderCreate = "idem:order:create:%s"

	// Cache laporan penjualan: report:sales:{yyyy}-{mm} -> report JSON
	KeySalesReport = "report:sales:%04d-%02d"

	// Generasi invalidasi laporan: report:sales:gen:{yyyy}-{mm} -> counter
	KeySalesReportGen = "report:sales:gen:%04d-%02d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// lebih lama dari timeout request; key milik request yang crash akan lepas sendiri
	TTLIdemPending = 30 * time.Second
	TTLReportCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
