package constants

// Default simulation parameters, matching the values a fresh session starts with.
const (
	DefaultS0    = 100.0
	DefaultMu    = 0.08
	DefaultSigma = 0.2
	DefaultT     = 1.0
	DefaultSteps = 252
	DefaultPaths = 2000
	DefaultSeed  = 0
)

// Generator and sampler constants
const (
	// NormalEpsilon is the floor applied to the first uniform draw before the
	// Box-Muller logarithm so that a zero draw never yields -Inf.
	NormalEpsilon = 1e-12
)

// Playback constants
const (
	// DefaultRate is the default playback rate in steps per second.
	DefaultRate = 300.0

	// MaxStepsPerTick bounds the work done by a single Tick call. A driver that
	// stalls (backgrounded window, suspended process) catches up at most this
	// many steps per call.
	MaxStepsPerTick = 4000

	// MaxPathsPerTick bounds a single Tick in exact terminal sampling mode,
	// where one step completes one path.
	MaxPathsPerTick = 10000

	// DefaultTickIntervalMs is the wall-clock ticker period used by the live
	// driver, roughly one display frame.
	DefaultTickIntervalMs = 16

	// MaxBackgroundPaths is how many completed trajectories a simulator keeps
	// for display behind the in-progress path.
	MaxBackgroundPaths = 60
)

// Histogram and density constants
const (
	// DefaultWienerBins is the bin count used for terminal W(T) histograms.
	DefaultWienerBins = 40

	// DefaultTerminalBins is the bin count used for terminal S(T) histograms.
	DefaultTerminalBins = 70

	// MinBins and MaxBins bound user supplied bin counts.
	MinBins = 10
	MaxBins = 250

	// DomainSigmas is the half-width of the histogram domain, in theoretical
	// standard deviations around the theoretical mean.
	DomainSigmas = 4.0

	// MinLogScale floors the log-domain standard deviation so that a zero
	// volatility run still has a non-empty histogram domain.
	MinLogScale = 1e-9

	// DefaultReferencePoints is the resolution of analytic density curves.
	DefaultReferencePoints = 250
)

// Decision analysis constants
const (
	// DefaultGridPoints is the number of candidate decisions on a loss curve.
	DefaultGridPoints = 90

	// LowerDecisionQuantile and UpperDecisionQuantile bound the decision grid.
	LowerDecisionQuantile = 0.05
	UpperDecisionQuantile = 0.95

	// DefaultTau is the default pinball-loss quantile level.
	DefaultTau = 0.95
)
