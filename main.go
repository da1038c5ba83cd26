// The main package for the gamesdb-crawler executable.
package main

import (
	"github.com/JakeFAU/gamesdb-crawler/cmd"
)

func main() {
	cmd.Execute()
}
