package observability

// Metrics is the application-facing aggregation point for counters and
// timings. Components receive it through their constructors so tests
// can pass a Noop.
type Metrics interface {
	IncCacheHit(entity string)
	IncCacheMiss(entity string)
	IncStockConflict()
	IncOrderCreated()
	IncWebhookEvent(result string)
	ObserveHTTP(method, route string, status int, durMs float64)
}

type Noop struct{}

func NewNoop() Metrics { return Noop{} }

func (Noop) IncCacheHit(string)                       {}
func (Noop) IncCacheMiss(string)                      {}
func (Noop) IncStockConflict()                        {}
func (Noop) IncOrderCreated()                         {}
func (Noop) IncWebhookEvent(string)                   {}
func (Noop) ObserveHTTP(string, string, int, float64) {}
