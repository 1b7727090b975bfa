// Command techfeed はテックニュース集約サービスのエントリーポイント。
//
// 使い方:
//
//	techfeed [serve|worker|ingest|migrate|token [subject] [ttl]|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/techfeed/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "techfeed: %v\n", err)
		os.Exit(1)
	}
}
