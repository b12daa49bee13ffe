/*
Copyright © 2024 the isimip authors.
This file is part of isimip.

isimip is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

isimip is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with isimip.  If not, see <http://www.gnu.org/licenses/>.
*/

// Command isimip is a command-line interface for downloading ISIMIP3b
// bias-adjusted climate data.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spatialmodel/isimip/isimiputil"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stop dispatching new work on the first interrupt.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		<-sig
		cancel()
	}()

	if err := isimiputil.Execute(ctx); err != nil {
		fmt.Println(err)
		os.Exit(-1)
	}
}
