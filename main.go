// The main package for the scraper executable.
package main

import (
	"github.com/vilca-glitch/shopify/cmd"
)

func main() {
	cmd.Execute()
}
