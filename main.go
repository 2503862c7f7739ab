/*
Copyright (C) 2026  Neb Contributors

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
/*
	neb single-node trunk storage engine

	Cluster membership, RPC framing, and CLI/config plumbing are a separate
	collaborator's concern; this binary only stands up one node's trunk
	store so the package can be exercised standalone.
*/
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/nebstore/neb/storage"
)

func main() {
	fmt.Print(`neb Copyright (C) 2026  Neb Contributors
    This program comes with ABSOLUTELY NO WARRANTY;
    This is free software, and you are welcome to redistribute it
    under certain conditions;
`)

	node := storage.NewNode(storage.Config{
		TrunksSize: 64 << 20,
		MemorySize: 512 << 20,
	})
	defer node.Close()

	fmt.Printf("neb: node ready with %d trunks\n", node.Trunks.TrunkCount())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
}
