// Command bibharvest downloads a machine-readable bibliography from several databases.
package main

func main() {
	Execute()
}
