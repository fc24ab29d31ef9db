package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"

	"github.com/nekomi2/LiftedGAN/pkg/grpcmodel"
	"github.com/nekomi2/LiftedGAN/pkg/httpmodel"
	"github.com/nekomi2/LiftedGAN/pkg/synthetic"
	"github.com/nekomi2/LiftedGAN/pkg/types"
)

func main() {
	var proto, listen, device string
	flag.StringVar(&proto, "proto", "http", "protocol to serve: http or grpc")
	flag.StringVar(&listen, "listen", ":8090", "listen address")
	flag.StringVar(&device, "device", "cpu", "device to load the model on")
	flag.Parse()

	if flag.NArg() != 1 {
		log.Fatalf("usage: %s [-proto http|grpc] [-listen :8090] [-device cpu] <model>", filepath.Base(os.Args[0]))
	}
	path := flag.Arg(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := synthetic.Load(ctx, path, types.Device(device))
	if err != nil {
		log.Fatal(err)
	}
	defer model.Close()
	info := model.Info()
	log.Printf("[model-server] loaded %s (%dx%d) from %s on %s", info.Name, info.Width, info.Height, path, model.Device())

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		log.Fatal(err)
	}

	switch proto {
	case "http":
		srv := &http.Server{Handler: httpmodel.NewHandler(model, path)}
		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		log.Printf("[model-server] serving http on %s", lis.Addr())
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	case "grpc":
		gs := grpc.NewServer(grpcmodel.ServerOptions()...)
		grpcmodel.Register(gs, model, path)
		go func() {
			<-ctx.Done()
			gs.GracefulStop()
		}()
		log.Printf("[model-server] serving grpc %s on %s", grpcmodel.ServiceName, lis.Addr())
		if err := gs.Serve(lis); err != nil {
			log.Fatal(err)
		}
	default:
		log.Fatalf("Unknown protocol: %s (use 'http' or 'grpc')", proto)
	}
}
