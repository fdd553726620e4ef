// sign-webhook prints the signature header value for a webhook payload, for
// replaying provider events against a local server.
//
// Usage:
//   WEBHOOK_SECRET=... go run ./cmd/sign-webhook -file event.json
//   curl -H "X-CC-Webhook-Signature: <output>" --data-binary @event.json localhost:8080/payment/webhook/crypto
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/mmdatafocus/pathway_backend/config"
	"github.com/mmdatafocus/pathway_backend/payments"
)

func main() {
	file := flag.String("file", "", "Payload file (reads stdin when empty)")
	flag.Parse()

	secret := config.LoadSettings().WebhookSecret
	if secret == "" {
		fmt.Fprintln(os.Stderr, "WEBHOOK_SECRET is required")
		os.Exit(2)
	}

	var (
		body []byte
		err  error
	)
	if *file == "" {
		body, err = io.ReadAll(os.Stdin)
	} else {
		body, err = os.ReadFile(*file)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to read payload: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(payments.Sign(body, secret))
}
