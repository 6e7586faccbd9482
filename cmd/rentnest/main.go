// Command rentnest はrentnestのAPIサーバー、ワーカー、マイグレーション、
// 対話型コンソールを1つのバイナリで提供する。
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/rentnest/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "rentnest: %v\n", err)
		os.Exit(1)
	}
}
