// Command pandascore-migrate copies PandaScore collections into a document
// and blob store, rewriting image references to destination URLs.
package main

import (
	"context"
	"os"
)

func main() {
	if err := NewRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
