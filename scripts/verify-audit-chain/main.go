// verify-audit-chain checks the HMAC chain of BI query log entries.
//
// It reads the gateway's JSON log (production format) from a file or stdin,
// rebuilds each organization's chain in log order and recomputes every
// checksum. The first entry that fails to verify is reported per organization.
//
// Usage: go run ./scripts/verify-audit-chain [-org <id>] [logfile]
//
// Secret: BI_AUDIT_SECRET environment variable (same value as the gateway)
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/ekaya-inc/ekaya-gateway/pkg/audit"
)

func main() {
	org := flag.String("org", "", "Only verify this organization's chain")
	flag.Parse()

	secret := os.Getenv("BI_AUDIT_SECRET")
	if secret == "" {
		fmt.Fprintln(os.Stderr, "BI_AUDIT_SECRET is not set")
		os.Exit(1)
	}

	var in io.Reader = os.Stdin
	if flag.NArg() > 0 {
		f, err := os.Open(flag.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		in = f
	}

	chains, err := audit.ReadLogEntries(in)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read entries: %v\n", err)
		os.Exit(1)
	}

	orgs := make([]string, 0, len(chains))
	for id := range chains {
		if *org == "" || id == *org {
			orgs = append(orgs, id)
		}
	}
	sort.Strings(orgs)

	failed := 0
	for _, id := range orgs {
		entries := chains[id]
		label := id
		if label == "" {
			label = "(no organization)"
		}
		if bad := audit.VerifyChain([]byte(secret), entries); bad != nil {
			failed++
			fmt.Printf("FAIL %s: %d entries, first bad entry %s\n", label, len(entries), bad)
			continue
		}
		fmt.Printf("ok   %s: %d entries\n", label, len(entries))
	}

	if failed > 0 {
		fmt.Printf("\n%d of %d chains failed verification\n", failed, len(orgs))
		os.Exit(1)
	}
}
