package swap

import (
	"context"
	"errors"

	apperr "github.com/ggonzalez94/chatswap/internal/errors"
	"github.com/ggonzalez94/chatswap/internal/logging"
	"github.com/ggonzalez94/chatswap/internal/providers"
)

// RouteSelector asks each router in order and takes the first single-hop
// route offered.
type RouteSelector struct {
	routers     []providers.RouteProvider
	slippageBps int
	log         *logging.Logger
}

func NewRouteSelector(slippageBps int, log *logging.Logger, routers ...providers.RouteProvider) *RouteSelector {
	return &RouteSelector{routers: routers, slippageBps: slippageBps, log: log.Sub("routes")}
}

// Selection is the chosen route and the router that can build it.
type Selection struct {
	Router providers.RouteProvider
	Route  providers.Route
}

func (s *RouteSelector) Select(ctx context.Context, req providers.RouteRequest) (Selection, error) {
	if req.SlippageBps == 0 {
		req.SlippageBps = s.slippageBps
	}

	var errs []error
	for _, router := range s.routers {
		routes, err := router.Routes(ctx, req)
		if err != nil {
			s.log.Warn().Err(err).Str("router", router.Name()).Msg("route query failed")
			errs = append(errs, err)
			continue
		}
		for _, r := range routes {
			if r.Hops > 1 {
				continue
			}
			return Selection{Router: router, Route: r}, nil
		}
	}
	if len(s.routers) > 0 && len(errs) == len(s.routers) {
		return Selection{}, apperr.Wrap(apperr.CodeUnavailable, "no router could be reached", errors.Join(errs...))
	}
	return Selection{}, apperr.New(apperr.CodeNoRouteFound, "no route found")
}
