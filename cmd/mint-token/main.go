package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/service"
	"golang.org/x/term"
)

// mint-token issues a JWT for a dry run without the school portal.
func main() {
	promptSecret := flag.Bool("prompt-secret", false, "read the signing secret from the terminal instead of JWT_SECRET")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	reader := bufio.NewReader(os.Stdin)

	fmt.Println("=== Mint Access Token ===")

	// Secret
	if *promptSecret {
		fmt.Print("Enter Signing Secret: ")
		secret, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println() // Newline after secret input
		if err != nil {
			fmt.Println("Error reading secret")
			return
		}
		if len(secret) < 16 {
			fmt.Println("Error: Secret must be at least 16 characters")
			return
		}
		cfg.JWTSecret = string(secret)
	}

	// Token type
	fmt.Print("Token Type [student/admin] (default student): ")
	typeStr, _ := reader.ReadString('\n')
	tokenType := service.TokenTypeStudent
	switch strings.ToLower(strings.TrimSpace(typeStr)) {
	case "", "student":
	case "admin":
		tokenType = service.TokenTypeAdmin
	default:
		fmt.Println("Error: Token type must be student or admin")
		return
	}

	// User ID
	fmt.Print("Enter User ID: ")
	idStr, _ := reader.ReadString('\n')
	userID, err := strconv.Atoi(strings.TrimSpace(idStr))
	if err != nil || userID <= 0 {
		fmt.Println("Error: User ID must be a positive number")
		return
	}

	// Permissions
	var permissions []string
	if tokenType == service.TokenTypeAdmin {
		fmt.Printf("Enter Permissions, comma separated (default %s): ", strings.Join(model.Codes(model.AllPermissions...), ","))
		permStr, _ := reader.ReadString('\n')
		permStr = strings.TrimSpace(permStr)
		if permStr == "" {
			permissions = model.Codes(model.AllPermissions...)
		} else {
			for _, p := range strings.Split(permStr, ",") {
				if p = strings.TrimSpace(p); p != "" {
					permissions = append(permissions, p)
				}
			}
		}
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	token, err := service.NewAuthService(cfg).IssueToken(tokenType, userID, permissions)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("\nToken (valid %s):\n%s\n", cfg.JWTExpiry, token)
}
