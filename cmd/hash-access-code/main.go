// hash-access-code prints a bcrypt hash for BETA_ACCESS_CODE_HASH, so the plain
// beta code never has to be stored in the environment.
//
// Usage:
//   go run ./cmd/hash-access-code -code <beta code>
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/pathway_backend/utils"
)

func main() {
	code := flag.String("code", "", "Required: the beta access code to hash")
	flag.Parse()

	if strings.TrimSpace(*code) == "" {
		fmt.Fprintln(os.Stderr, "-code is required")
		os.Exit(2)
	}
	hashed, err := utils.HashAccessCode(strings.TrimSpace(*code))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to hash code: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(hashed))
}
