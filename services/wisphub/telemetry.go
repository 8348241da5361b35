package wisphub

import (
	"wisppos-backend/lib/telemetry"
)

var tracer = telemetry.Tracer("wisppos.services.wisphub")
var meter = telemetry.Meter("wisppos.services.wisphub")

var loginRoundTrips, _ = meter.Int64Counter("wisphub.login_round_trips")
var vouchersCreated, _ = meter.Int64Counter("wisphub.vouchers_created")
var pollAttempts, _ = meter.Int64Histogram("wisphub.task_poll_attempts")
