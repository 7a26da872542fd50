package chrome

import (
	"net/url"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
}

// blockedHost checks if host or any parent domain is in the blocklist.
func blockedHost(host string, blocked map[string]struct{}) bool {
	host = strings.ToLower(host)
	for host != "" {
		if _, ok := blocked[host]; ok {
			return true
		}
		idx := strings.IndexByte(host, '.')
		if idx < 0 {
			break
		}
		host = host[idx+1:]
	}
	return false
}

// setupHijack installs a request interceptor that fails requests for the
// blocked resource types and hosts. Scripts and XHR are never blocked: the
// application renders client-side.
//
// Returns nil if there is nothing to block.
func setupHijack(page *rod.Page, blockedTypes, blockedHosts []string) *rod.HijackRouter {
	types := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := configToProto[name]; ok {
			types[rt] = struct{}{}
		}
	}
	hosts := make(map[string]struct{}, len(blockedHosts))
	for _, h := range blockedHosts {
		hosts[strings.ToLower(strings.TrimSpace(h))] = struct{}{}
	}
	if len(types) == 0 && len(hosts) == 0 {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, ok := types[ctx.Request.Type()]; ok {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		if len(hosts) > 0 {
			if u, err := url.Parse(ctx.Request.URL().String()); err == nil && blockedHost(u.Hostname(), hosts) {
				ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
				return
			}
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks until router.Stop().
	go router.Run()

	return router
}
