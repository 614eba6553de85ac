// Command client is an interactive shell for the realtime gateway and the
// REST API.
package main

import (
	"flag"
	"log"

	"github.com/abiosoft/ishell"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
)

func main() {
	apiURL := flag.String("api", "http://localhost:8080", "REST API base URL")
	grpcAddr := flag.String("grpc", "localhost:50051", "gateway address")
	useTLS := flag.Bool("tls", false, "dial the gateway with TLS using system roots")
	flag.Parse()

	creds := insecure.NewCredentials()
	if *useTLS {
		creds = credentials.NewClientTLSFromCert(nil, "")
	}
	conn, err := grpc.NewClient(*grpcAddr, grpc.WithTransportCredentials(creds))
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()

	shell := ishell.New()
	s := newSession(*apiURL, conn, func(line string) { shell.Println(line) })
	defer s.close()

	shell.Set("session", s)
	shell.Println("connected to", *grpcAddr, "and", *apiURL, "- type help")

	shell.AddCmd(&ishell.Cmd{
		Name: "register",
		Help: "create an account and go online",
		Func: register,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "login",
		Help: "log in and go online",
		Func: login,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "logout",
		Help: "close the gateway stream",
		Func: logout,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "online",
		Help: "list online users",
		Func: online,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "send",
		Help: "send <userId> <message>",
		Func: send,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "read",
		Help: "read <userId>: mark their messages to you as read",
		Func: markRead,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "history",
		Help: "history <userId>: show the conversation",
		Func: history,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "conversations",
		Help: "list your conversations",
		Func: conversations,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "search",
		Help: "search <query>: find users",
		Func: search,
	})

	shell.AddCmd(&ishell.Cmd{
		Name: "presence",
		Help: "presence <userId>: show stored presence",
		Func: presence,
	})

	shell.Run()
}
