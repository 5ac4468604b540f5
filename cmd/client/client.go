package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"log"
	stdnet "net"
	"os"
	"strconv"
	"strings"
	"time"

	"vidar/internal/common"
	vidarNet "vidar/internal/net"
)

func main() {
	// CLI Parameter Parsing
	serverAddr := flag.String("server", "127.0.0.1:9001", "Address of the exchange server")
	user := flag.String("user", "", "Acting account name (compulsory)")
	action := flag.String("action", "place", "Action: ['place', 'cancel', 'log', 'addasset', 'addpair', 'mint', 'transfer']")

	// Order parameters
	baseStr := flag.String("base", "0102", "Base asset id, hex encoded")
	quoteStr := flag.String("quote", "0304", "Quote asset id, hex encoded")
	sideStr := flag.String("side", "buy", "Order side: 'buy' or 'sell'")
	price := flag.Uint64("price", 100, "Limit price, quote per base")
	qtyStr := flag.String("qty", "10", "Amount or comma-separated list (e.g. 10,20,50)")

	// Cancel parameters
	orderID := flag.Uint64("id", 0, "Order id to cancel")

	// Admin parameters
	assetStr := flag.String("asset", "", "Asset id for admin actions, hex encoded")
	precision := flag.Uint64("precision", 1000, "Asset precision for addasset")
	dest := flag.String("dest", "", "Destination account for mint/transfer")
	amount := flag.Uint64("amount", 0, "Amount for mint/transfer")

	flag.Parse()

	if *user == "" {
		fmt.Println("Error: -user is compulsory.")
		flag.Usage()
		os.Exit(1)
	}

	pair := common.OrderPair{
		Base:  parseAsset(*baseStr),
		Quote: parseAsset(*quoteStr),
	}
	who := common.AccountID(*user)

	// Connect to Server
	conn, err := stdnet.Dial("tcp", *serverAddr)
	if err != nil {
		log.Fatalf("Failed to connect to server at %s: %v", *serverAddr, err)
	}
	defer conn.Close()
	fmt.Printf("Connected to %s as '%s'\n", *serverAddr, *user)

	// Start Listening for Reports (Async)
	go readReports(conn)

	side := common.Buy
	if strings.ToLower(*sideStr) == "sell" {
		side = common.Sell
	}

	// Execute Action
	switch strings.ToLower(*action) {
	case "place":
		for _, q := range parseQuantities(*qtyStr) {
			buf, err := vidarNet.EncodeNewOrder(who, pair, side, q, *price)
			if err != nil {
				log.Fatalf("Failed to encode order: %v", err)
			}
			send(conn, buf)
			fmt.Printf("-> Sent %s Order: %v %d @ %d\n", strings.ToUpper(*sideStr), pair, q, *price)
			// Small sleep so the server observes the sequence distinctly
			time.Sleep(5 * time.Millisecond)
		}

	case "cancel":
		if *orderID == 0 {
			log.Fatal("Error: -id is required for cancellation")
		}
		buf, err := vidarNet.EncodeCancelOrder(who, pair, *orderID)
		if err != nil {
			log.Fatalf("Failed to encode cancel: %v", err)
		}
		send(conn, buf)
		fmt.Printf("-> Sent Cancel Request for order %d\n", *orderID)

	case "log":
		send(conn, vidarNet.EncodeLogBook(who))
		fmt.Println("-> Sent Log Request")

	case "addasset":
		buf, err := vidarNet.EncodeAddAsset(who, parseAsset(*assetStr), *precision)
		if err != nil {
			log.Fatalf("Failed to encode addasset: %v", err)
		}
		send(conn, buf)
		fmt.Printf("-> Registered asset %s with precision %d\n", *assetStr, *precision)

	case "addpair":
		buf, err := vidarNet.EncodeAddPair(who, pair)
		if err != nil {
			log.Fatalf("Failed to encode addpair: %v", err)
		}
		send(conn, buf)
		fmt.Printf("-> Registered pair %v\n", pair)

	case "mint":
		buf, err := vidarNet.EncodeMint(who, parseAsset(*assetStr), common.AccountID(*dest), *amount)
		if err != nil {
			log.Fatalf("Failed to encode mint: %v", err)
		}
		send(conn, buf)
		fmt.Printf("-> Minted %d of %s to %s\n", *amount, *assetStr, *dest)

	case "transfer":
		buf, err := vidarNet.EncodeTransfer(who, parseAsset(*assetStr), common.AccountID(*dest), *amount)
		if err != nil {
			log.Fatalf("Failed to encode transfer: %v", err)
		}
		send(conn, buf)
		fmt.Printf("-> Transferred %d of %s to %s\n", *amount, *assetStr, *dest)

	default:
		log.Fatalf("Unknown action: %s", *action)
	}

	// Keep the client alive to receive execution reports
	fmt.Println("\nListening for reports... (Press Ctrl+C to exit)")
	select {}
}

func send(conn stdnet.Conn, buf []byte) {
	if _, err := conn.Write(buf); err != nil {
		log.Fatalf("Failed to send message: %v", err)
	}
}

func parseAsset(s string) common.AssetID {
	raw, err := hex.DecodeString(s)
	if err != nil {
		log.Fatalf("Invalid asset id %q: %v", s, err)
	}
	return common.AssetID(raw)
}

// parseQuantities splits a comma-separated string into a slice of uint64
func parseQuantities(input string) []uint64 {
	parts := strings.Split(input, ",")
	var result []uint64
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if val, err := strconv.ParseUint(p, 10, 64); err == nil {
			result = append(result, val)
		} else {
			log.Printf("Warning: Invalid quantity '%s', skipping.", p)
		}
	}
	return result
}

// readReports continuously reads and parses Report frames from the
// server. A frame is 34 fixed bytes followed by two length-prefixed
// strings.
func readReports(conn stdnet.Conn) {
	for {
		frame := make([]byte, vidarNet.ReportFixedLen)
		if _, err := io.ReadFull(conn, frame); err != nil {
			if err != io.EOF {
				log.Printf("Connection lost: %v", err)
			}
			os.Exit(0)
		}
		for i := 0; i < 2; i++ {
			var lenByte [1]byte
			if _, err := io.ReadFull(conn, lenByte[:]); err != nil {
				log.Printf("Error reading report body: %v", err)
				return
			}
			frame = append(frame, lenByte[0])
			if n := int(lenByte[0]); n > 0 {
				str := make([]byte, n)
				if _, err := io.ReadFull(conn, str); err != nil {
					log.Printf("Error reading report body: %v", err)
					return
				}
				frame = append(frame, str...)
			}
		}

		report, err := vidarNet.ParseReport(frame)
		if err != nil {
			log.Printf("Error parsing report: %v", err)
			continue
		}

		switch report.MessageType {
		case vidarNet.ErrorReport:
			fmt.Printf("\n[SERVER ERROR] %s\n", report.Err)
		case vidarNet.OrderAck:
			fmt.Printf("\n[ACCEPTED] Order id %d\n", report.OrderID)
		case vidarNet.ExecutionReport:
			fmt.Printf("\n[EXECUTION] %s | Qty: %d | Price: %d | vs: %s | Order: %d\n",
				strings.ToUpper(report.Side.String()), report.Quantity, report.Price,
				report.Counterparty, report.OrderID)
		}
	}
}
