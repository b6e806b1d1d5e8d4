package domain

import "strconv"

// OrderBook representa el libro de órdenes de un token.
// Es un snapshot: se pide fresco en cada decisión y no se muta.
type OrderBook struct {
	TokenID string
	Bids    []BookEntry // ordenados mayor a menor precio
	Asks    []BookEntry // ordenados menor a mayor precio
}

// BookEntry es un nivel de precio en el orderbook.
type BookEntry struct {
	Price float64
	Size  float64
}

// BestBid devuelve el mejor precio de compra (mayor bid).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestBid() float64 {
	var best float64
	for _, b := range ob.Bids {
		if b.Price > best {
			best = b.Price
		}
	}
	return best
}

// BestAsk devuelve el mejor precio de venta (menor ask).
// Devuelve 0 si el book está vacío.
func (ob OrderBook) BestAsk() float64 {
	var best float64
	for _, a := range ob.Asks {
		if a.Price <= 0 {
			continue
		}
		if best == 0 || a.Price < best {
			best = a.Price
		}
	}
	return best
}

// Imbalance is total bid size over total ask size. A book with bids and no
// asks reports 999, an empty book reports 1.
func (ob OrderBook) Imbalance() float64 {
	var bids, asks float64
	for _, b := range ob.Bids {
		bids += b.Size
	}
	for _, a := range ob.Asks {
		asks += a.Size
	}
	switch {
	case asks > 0:
		return bids / asks
	case bids > 0:
		return 999
	default:
		return 1
	}
}

// ParsePrice convierte un string de precio a float64.
// Usado en el mapping de la API.
func ParsePrice(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
