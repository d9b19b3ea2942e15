// cmd/presenced/main.go
package main

func main() {
	Execute()
}
