package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	raven "github.com/getsentry/raven-go"

	"github.com/ndlib/chunkkv/server"
	"github.com/ndlib/chunkkv/store"
)

var (
	portNumber   = flag.String("port", server.DefaultPort, "port to listen on")
	storage      = flag.String("storage", "memory", "storage location: memory, s3:/bucket/prefix, or s3://host:port/bucket/prefix")
	tokenFile    = flag.String("tokens", "", "file of user tokens: <user> <role> <token> per line")
	account      = flag.String("account", "", "only accept requests for this account id")
	maxValueSize = flag.Int("max-value-size", server.DefaultMaxValueSize, "largest value accepted, in bytes")
	maxBulkPairs = flag.Int("max-bulk-pairs", server.DefaultMaxBulkPairs, "most entries accepted in one bulk write")
	sentryDSN    = flag.String("sentry", os.Getenv("SENTRY_DSN"), "Sentry DSN to report errors to")
)

func main() {
	flag.Parse()

	if *sentryDSN != "" {
		if err := raven.SetDSN(*sentryDSN); err != nil {
			log.Println("Sentry:", err)
		}
	}

	s, err := store.ParseLocation(*storage, "")
	if err != nil {
		log.Fatalln(err)
	}
	log.Println("Using storage", *storage)

	var validator server.TokenValidator
	if *tokenFile != "" {
		validator, err = server.NewListValidatorFile(*tokenFile)
		if err != nil {
			log.Fatalln("Reading tokens:", err)
		}
		log.Println("Using tokens from", *tokenFile)
	}

	rs := &server.RESTServer{
		PortNumber:   *portNumber,
		Store:        s,
		AccountID:    *account,
		MaxValueSize: *maxValueSize,
		MaxBulkPairs: *maxBulkPairs,
		Validator:    validator,
	}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Println("Shutting down")
		if err := rs.Stop(); err != nil {
			log.Println(err)
		}
	}()

	if err := rs.Run(); err != nil {
		log.Fatalln(err)
	}
}
