package exchange

import (
	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Options tune an exchanger. The zero value plus defaults is a silent,
// unregistered exchanger on the wall clock.
type Options struct {
	Logger     *zap.Logger
	Clock      clock.Clock
	Registerer prometheus.Registerer
	// Pipelined lets the one-sided variants issue each partner's write from
	// ColorDone as soon as its boundary values are final. TwoSidedAsyncPipelined
	// always works this way, the other two-sided variants ignore it.
	Pipelined bool
	// WindowName names the collectively created window, all ranks must agree
	WindowName string
}

type Option func(*Options)

func WithLogger(l *zap.Logger) Option               { return func(o *Options) { o.Logger = l } }
func WithClock(c clock.Clock) Option                { return func(o *Options) { o.Clock = c } }
func WithRegisterer(r prometheus.Registerer) Option { return func(o *Options) { o.Registerer = r } }
func WithPipelined(p bool) Option                   { return func(o *Options) { o.Pipelined = p } }
func WithWindowName(n string) Option                { return func(o *Options) { o.WindowName = n } }

func newOptions(v Variant, opts []Option) *Options {
	o := &Options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	if o.WindowName == "" {
		o.WindowName = "halo/" + v.String()
	}
	return o
}
