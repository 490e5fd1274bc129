package cos

import (
	ratomic "sync/atomic"
	"time"

	"github.com/teris-io/shortid"
)

// custom path/URL-safe alphabet for shortid-generated correlation ids
const sidABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

var (
	sid *shortid.Shortid
	tie uint32
)

func init() {
	sid = shortid.MustNew(1 /*worker*/, sidABC, uint64(time.Now().UnixNano()))
}

// GenCorrelationID mints a short, log-friendly id for a session — used to
// tell apart same-token sessions across reconnects in structured log lines,
// since tokens alone are reused once a session is torn down.
func GenCorrelationID() string {
	id := sid.MustGenerate()
	n := ratomic.AddUint32(&tie, 1)
	return id + string(sidABC[n&0x3f])
}
