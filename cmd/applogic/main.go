// Command applogic validates, runs, draws and serves app action bundles.
package main

func main() {
	Execute()
}
