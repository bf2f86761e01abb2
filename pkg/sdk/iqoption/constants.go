package iqoption

// Default endpoints.
const (
	DefaultWSURL    = "wss://iqoption.com/echo/websocket"
	DefaultLoginURL = "https://auth.iqoption.com/api/v2/login"
)

// Outbound frame names.
const (
	OpAuthenticate       = "authenticate"
	OpSendMessage        = "sendMessage"
	OpSubscribeMessage   = "subscribeMessage"
	OpUnsubscribeMessage = "unsubscribeMessage"
)

// Operations wrapped inside sendMessage.
const (
	OpGetBalances        = "internal-billing.get-balances"
	OpGetCandles         = "get-candles"
	OpOpenOption         = "binary-options.open-option"
	OpSubscribePositions = "subscribe-positions"
)

// Push event names.
const (
	EventAuthenticated   = "authenticated"
	EventTimeSync        = "timeSync"
	EventPositionChanged = "position-changed"
	EventCandleGenerated = "candle-generated"
)

// Portfolio feeds subscribed after authentication.
const (
	feedOrderChanged    = "portfolio.order-changed"
	feedPositionChanged = "portfolio.position-changed"
)

const (
	OptionTypeBlitz     = 12
	InstrumentTypeBlitz = "blitz-option"

	authProtocolVersion  = 3
	positionStatusClosed = "closed"
	optionResultOpened   = "opened"
)

// Balance type ids as reported by the billing service.
const (
	BalanceTypePractice   = 1
	BalanceTypeTournament = 2
	BalanceTypeReal       = 4
	BalanceTypeOther      = 6
)
