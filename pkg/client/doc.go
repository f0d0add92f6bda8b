// Package client is the Go SDK for ledgerd, the hash-chained record ledger.
//
// # Committing a record
//
//	c, err := client.New("http://localhost:8080", client.WithBearerToken(token))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	block, err := c.Commit(ctx, client.CommitRequest{
//	    RecordID:   "META-001",
//	    EntityKind: "goal",
//	    Content:    map[string]any{"valor": 10, "unidad": "%"},
//	    Reason:     "quarterly target",
//	})
//
// Content may be any JSON value. A Go string is committed as free text and
// hashed from its own bytes unless it is itself valid JSON.
//
// # Verifying
//
// Verify re-digests the stored block. Pass CurrentContent to compare the
// record as it exists today against what was committed:
//
//	res, err := c.Verify(ctx, "META-001", client.VerifyRequest{
//	    CurrentContent: map[string]any{"valor": 55, "unidad": "%"},
//	})
//	if !res.Valid {
//	    for _, d := range res.Divergences {
//	        fmt.Println(d.FieldPath, d.Expected, "->", d.Actual)
//	    }
//	}
//
// A mismatch is a result, not an error. Errors are reserved for transport
// failures and non-2xx responses, which are returned as *APIError. Use
// errors.Is(err, client.ErrNotFound) to detect unknown records.
//
// # Chain-wide documents
//
// Audit, Export, ExportCSV and Proof return whole-chain views; Overview
// returns the length and root fingerprint.
package client
