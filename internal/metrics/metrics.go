package metrics

import "expvar"

// 游戏域计数器，通过 /debug/vars 暴露
var (
	GamesCreated     = expvar.NewInt("games_created")
	GamesInitialized = expvar.NewInt("games_initialized")
	GuessesSubmitted = expvar.NewInt("guesses_submitted")
	GamesSettled     = expvar.NewInt("games_settled")
	GamesWon         = expvar.NewInt("games_won")
	ListingFetches   = expvar.NewInt("listing_fetches")
	EventsDropped    = expvar.NewInt("events_dropped")
)
