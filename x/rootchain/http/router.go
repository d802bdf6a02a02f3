package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterMux binds gorilla/mux routes.
func (h *Handler) RegisterMux(r *mux.Router) {
	get := func(path, name string, fn http.HandlerFunc) {
		r.HandleFunc(path, fn).Methods(http.MethodGet).Name(name)
	}
	post := func(path, name string, fn http.HandlerFunc) {
		r.HandleFunc(path, fn).Methods(http.MethodPost).Name(name)
	}

	get(routeStats, routeNameStats, h.handleStats)
	get(routeCurrentFork, routeNameCurrentFork, h.handleCurrentFork)
	get(routeFork, routeNameFork, h.handleFork)
	get(routeEpoch, routeNameEpoch, h.handleEpoch)
	get(routeBlock, routeNameBlock, h.handleBlock)
	get(routeClassify, routeNameClassify, h.handleClassify)
	get(routeOpenEpoch, routeNameOpenEpoch, h.handleOpenEpoch)
	get(routeRequestBlock, routeNameRequestBlock, h.handleRequestBlock)
	get(routeEvents, routeNameEvents, h.handleEvents)

	post(routeEnter, routeNameEnter, h.handleEnter)
	post(routeExit, routeNameExit, h.handleExit)
	post(routeFinalizeReqs, routeNameFinalizeReqs, h.handleFinalizeRequests)
	get(routeRequest, routeNameRequest, h.handleRequest)

	post(routeSubmitBlock, routeNameSubmitBlock, h.handleSubmitBlock)
	post(routeFinalizeBlock, routeNameFinalizeBlock, h.handleFinalizeBlock)
	post(routePrepare, routeNamePrepare, h.handlePrepare)
	post(routeUserRequest, routeNameUserRequest, h.handleUserRequest)
	post(routeUserBlock, routeNameUserBlock, h.handleUserBlock)
	post(routeChallenge, routeNameChallenge, h.handleChallenge)
}
