// Package webhook receives App Store Connect notifications and relays them to Lark.
//
// Every request is authenticated with an HMAC-SHA256 of the raw body keyed by a
// shared secret. The signature arrives in X-Apple-Signature, either as bare hex
// or prefixed with an algorithm tag such as "hmacsha256=".
//
// # Request Flow
//
//  1. Non-POST requests are rejected with 405 before anything else
//  2. Body size checked (413 if larger than MaxBodySize)
//  3. Signature compared in constant time (403 on any failure)
//  4. Body must be a JSON object (400 otherwise)
//  5. App id, or failing that the version id, is looked up for name and icon
//  6. The notification is rendered into a card and posted to Lark
//  7. 200 {"status":"forwarded"} is returned even if the Lark post failed
//
// Enrichment and delivery failures are logged and counted but never change the
// response, so App Store Connect does not retry because the chat relay is down.
//
// # Example Usage
//
//	server := webhook.New(webhook.Config{
//		Listen: "0.0.0.0:8080",
//		Secret: os.Getenv("APP_STORE_CONNECT_SECRET"),
//	}, appstoreClient, larkNotifier, metrics.New(), logger)
//	if err := server.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
package webhook
