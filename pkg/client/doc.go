// Package client is the TSA event ledger Go SDK.
//
// # Reading the chain
//
//	c, err := client.New("http://localhost:5001")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	chain, err := c.Chain(ctx, 0)
//
// # Appending
//
// When the server has a writer secret configured, appends need a writer
// token (see 'tsa token'):
//
//	c, _ := client.New("http://localhost:5001", client.WithBearerToken(token))
//	entry, err := c.Append(ctx, "Order Placed", map[string]any{"item": "Mulch", "quantity": 3})
//
// # Following new entries
//
// Tail holds a WebSocket open and calls fn for every entry appended after it
// connects, in order:
//
//	err := c.Tail(ctx, func(e client.Entry) error {
//	    log.Printf("#%d %s", e.Index, e.Feature)
//	    return nil
//	})
package client
