package main

import (
	"fmt"
	"io"
	"slices"
	"text/tabwriter"

	"l3book/internal/book"
	"l3book/internal/common"
	"l3book/internal/fixed"
)

// printBook writes the top rows of each side, asks above bids, using the
// book's active grouping.
func printBook(w io.Writer, b *book.Book, rows, decimals int) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "side\tprice\tsize\t")

	asks := b.Levels(common.Sell, rows)
	slices.Reverse(asks)
	for _, level := range asks {
		fmt.Fprintf(tw, "ask\t%s\t%s\t\n", level.Price.Format(decimals), level.Qty.Format(fixed.Digits))
	}

	spread := "-"
	if bid, ok := b.Best(common.Buy); ok {
		if ask, ok := b.Best(common.Sell); ok {
			spread = (ask.Price - bid.Price).Format(decimals)
		}
	}
	fmt.Fprintf(tw, "spread\t%s\t\t\n", spread)

	for _, level := range b.Levels(common.Buy, rows) {
		fmt.Fprintf(tw, "bid\t%s\t%s\t\n", level.Price.Format(decimals), level.Qty.Format(fixed.Digits))
	}
	tw.Flush()

	if price, ok := b.LastTradedPrice(); ok {
		fmt.Fprintf(w, "last trade %s\n", price.Format(decimals))
	}
	fmt.Fprintf(w, "sequence %d, %d orders, %d gaps\n", b.LastApplied(), b.OrderCount(), b.Gaps())
}
