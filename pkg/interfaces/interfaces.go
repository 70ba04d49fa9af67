// Package interfaces holds the logging and metrics contracts every manageusers component depends on
package interfaces

// Logger writes structured entries. Fields are merged in order.
type Logger interface {
	Debug(msg string, fields ...map[string]interface{})
	Info(msg string, fields ...map[string]interface{})
	Warn(msg string, fields ...map[string]interface{})
	Error(msg string, err error, fields ...map[string]interface{})

	// WithFields returns a child logger that adds fields to every entry
	WithFields(fields map[string]interface{}) Logger
}

// Metrics records named measurements. Names are unprefixed; implementations
// decide namespacing and which names they export.
type Metrics interface {
	Counter(name string, value float64, labels map[string]string)
	Gauge(name string, value float64, labels map[string]string)
	Histogram(name string, value float64, labels map[string]string)

	// Timer records a duration in seconds
	Timer(name string, duration float64, labels map[string]string)
}
