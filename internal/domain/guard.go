package domain

// GuardResult is the immutable outcome of one guard-phase evaluation.
// Meta carries full diagnostics for audit logging regardless of outcome.
type GuardResult struct {
	Allowed bool
	Reason  string
	Meta    map[string]any
}

// Guard reason codes. The BLOCK_* codes name the first check that failed;
// a phase stops at the first block.
const (
	GuardDisabled    = "RG_DISABLED"
	GuardPreflightOK = "RG_OK"
	GuardPostsizeOK  = "RG2_OK"

	BlockMaxTradesPerRun           = "BLOCK_MAX_TRADES_PER_RUN"
	BlockMaxConcurrentPositions    = "BLOCK_MAX_CONCURRENT_POSITIONS"
	BlockTradingWindow             = "BLOCK_TRADING_WINDOW"
	BlockMaxTradesPerDayInstrument = "BLOCK_MAX_TRADES_PER_DAY_INSTRUMENT"
	BlockCooldownInstrument        = "BLOCK_COOLDOWN_INSTRUMENT"
	BlockDailyRiskBudget           = "BLOCK_DAILY_RISK_BUDGET"
	BlockDailyLossLimit            = "BLOCK_DAILY_LOSS_LIMIT"
)
