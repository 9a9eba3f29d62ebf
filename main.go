// main is the entry point for the feedmirror CLI.
package main

import (
	"github.com/huangsam/feedmirror/cmd"
	"github.com/huangsam/feedmirror/internal/contract"
	"github.com/huangsam/feedmirror/internal/iocache"
)

func main() {
	err := cmd.Execute()
	iocache.CloseStores()
	if err != nil {
		contract.LogFatal("feedmirror", err)
	}
}
