package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/kaeberlein/sfcb/sfcb/dump"
	"github.com/kaeberlein/sfcb/sfcb/profile"
)

func main() {
	dev := flag.String("dev", "/dev/spidev0.0", "spidev character device to use")
	profilePath := flag.String("profile", "", "YAML device/queue profile")
	cmd := flag.String("cmd", "scan", "scan | add | get | dump")
	queue := flag.Uint("queue", 0, "queue id for add/get/dump")
	payload := flag.String("payload", "", "payload to append (add)")

	flag.Parse()

	if *profilePath == "" {
		log.Fatalln("sfcbtool: -profile is required")
	}

	p, err := profile.Load(*profilePath)
	if err != nil {
		log.Fatalln(err)
	}

	spi, err := OpenSPIDev(*dev)
	if err != nil {
		log.Fatalln(err)
	}
	defer spi.Close()

	buf := make([]byte, p.Device.PageSize+uint32(p.Device.AddressBytes)+1)
	d, ids, err := p.Build(buf)
	if err != nil {
		log.Fatalln(err)
	}
	d.LogFunc = func(format string, args ...any) {
		log.Printf(format, args...)
	}

	run := func() {
		for d.Busy() {
			d.Worker()
			if n := d.SPILen(); n > 0 {
				if err := spi.Exchange(d.Buffer()); err != nil {
					log.Fatalln(err)
				}
			}
		}
	}

	cbID := uint8(*queue)

	switch *cmd {
	case "scan":
		if err := d.MkCB(); err != nil {
			log.Fatalln(err)
		}
		run()
		if d.IsError() {
			log.Fatalln(d.Err())
		}
		for _, id := range ids {
			fmt.Printf("queue %d: idmax=%d\n", id, d.IDMax(id))
		}

	case "add":
		if err := d.MkCB(); err != nil {
			log.Fatalln(err)
		}
		run()
		if err := d.Add(cbID, []byte(*payload)); err != nil {
			log.Fatalln(err)
		}
		run()
		// Add already writes the footer itself once the payload fills
		// the queue's configured size; AddDone is only for finishing a
		// short record.
		if uint16(len(*payload)) < p.Queues[cbID].PlSize {
			if err := d.AddDone(cbID); err != nil {
				log.Fatalln(err)
			}
			run()
		}
		if d.IsError() {
			log.Fatalln(d.Err())
		}

	case "get":
		if err := d.MkCB(); err != nil {
			log.Fatalln(err)
		}
		run()
		out := make([]byte, 4096)
		id, err := d.GetLast(cbID, out)
		if err != nil {
			log.Fatalln(err)
		}
		run()
		if d.IsError() {
			log.Fatalln(d.Err())
		}
		fmt.Printf("record %d: %q\n", id, out)

	case "dump":
		data, err := dump.RawDump(d, spi.Exchange, 0, int(p.Device.TotalSize))
		if err != nil {
			log.Fatalln(err)
		}
		fmt.Printf("checksum: %08x (%d bytes)\n", dump.Checksum(data), len(data))

	default:
		fmt.Fprintf(os.Stderr, "unknown -cmd %q\n", *cmd)
		os.Exit(1)
	}
}
