package http

// Route patterns for the rootchain HTTP surface.
const (
	routeStats         = "/v1/rootchain/stats"
	routeCurrentFork   = "/v1/rootchain/forks/current"
	routeFork          = "/v1/rootchain/forks/{fork:[0-9]+}"
	routeEpoch         = "/v1/rootchain/forks/{fork:[0-9]+}/epochs/{number:[0-9]+}"
	routeBlock         = "/v1/rootchain/forks/{fork:[0-9]+}/blocks/{number:[0-9]+}"
	routeClassify      = "/v1/rootchain/forks/{fork:[0-9]+}/blocks/{number:[0-9]+}/class"
	routeFinalizeBlock = "/v1/rootchain/forks/{fork:[0-9]+}/finalize"
	routeOpenEpoch     = "/v1/rootchain/epochs/open"
	routeSubmitBlock   = "/v1/rootchain/blocks"
	routeEnter         = "/v1/rootchain/requests/enter"
	routeExit          = "/v1/rootchain/requests/exit"
	routeRequest       = "/v1/rootchain/requests/{kind}/{id:[0-9]+}"
	routeFinalizeReqs  = "/v1/rootchain/requests/{kind}/finalize"
	routeRequestBlock  = "/v1/rootchain/request-blocks/{kind}/{id:[0-9]+}"
	routePrepare       = "/v1/rootchain/user-exits/prepare"
	routeUserRequest   = "/v1/rootchain/user-exits/requests"
	routeUserBlock     = "/v1/rootchain/user-exits/blocks"
	routeChallenge     = "/v1/rootchain/challenges"
	routeEvents        = "/v1/rootchain/events"
)

// Route names for mux URL building.
const (
	routeNameStats         = "rootchain_stats"
	routeNameCurrentFork   = "rootchain_current_fork"
	routeNameFork          = "rootchain_fork"
	routeNameEpoch         = "rootchain_epoch"
	routeNameBlock         = "rootchain_block"
	routeNameClassify      = "rootchain_classify"
	routeNameFinalizeBlock = "rootchain_finalize_block"
	routeNameOpenEpoch     = "rootchain_open_epoch"
	routeNameSubmitBlock   = "rootchain_submit_block"
	routeNameEnter         = "rootchain_enter"
	routeNameExit          = "rootchain_exit"
	routeNameRequest       = "rootchain_request"
	routeNameFinalizeReqs  = "rootchain_finalize_requests"
	routeNameRequestBlock  = "rootchain_request_block"
	routeNamePrepare       = "rootchain_prepare_user_exit"
	routeNameUserRequest   = "rootchain_user_exit_request"
	routeNameUserBlock     = "rootchain_user_block"
	routeNameChallenge     = "rootchain_challenge"
	routeNameEvents        = "rootchain_events"
)
