// Package api exposes the campus backend as typed resource domains. Every
// domain declares its queries and mutations on a resourcecache.Engine, so
// reads are cached, de-duplicated and tag-invalidated, and every request goes
// through the authenticated pipeline.
//
//	client := api.New(pipe, sess, store)
//	events, err := client.Events.List(ctx)
//
//	sub := client.Messages.Watch(ctx, api.MessageParams{ClubID: 3, Limit: api.Ptr(100)})
//	defer sub.Close()
//	go resourcecache.Poll(ctx, sub, resourcecache.DefaultPollInterval)
package api
