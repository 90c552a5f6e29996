package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/campusmart/marketplace-backend/internal/utils"
	"github.com/campusmart/marketplace-backend/pkg/jwt"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// generate-secrets prints a fresh JWT_SECRET, or with -mint signs a local
// development token against the configured secret.
func main() {
	mint := flag.Bool("mint", false, "sign a development access token instead of generating a secret")
	userFlag := flag.String("user", "", "user id for the minted token (random if empty)")
	email := flag.String("email", "dev@campus.local", "email claim for the minted token")
	admin := flag.Bool("admin", false, "include the admin role in the minted token")
	ttl := flag.Duration("ttl", 24*time.Hour, "minted token lifetime")
	flag.Parse()

	if !*mint {
		secret, err := utils.GenerateSecret(32)
		if err != nil {
			log.Fatalf("Failed to generate secret: %v", err)
		}
		fmt.Println("Add this to your .env file:")
		fmt.Printf("JWT_SECRET=%s\n", secret)
		return
	}

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	issuer := os.Getenv("JWT_ISSUER")
	if issuer == "" {
		issuer = "campusmart"
	}

	userID := uuid.New()
	if *userFlag != "" {
		parsed, err := uuid.Parse(*userFlag)
		if err != nil {
			log.Fatalf("Invalid -user: %v", err)
		}
		userID = parsed
	}

	roles := []string{"student"}
	if *admin {
		roles = append(roles, jwt.RoleAdmin)
	}

	token, err := jwt.NewService(secret, *ttl, issuer).GenerateAccessToken(userID, *email, roles)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Printf("user_id=%s\n", userID)
	fmt.Printf("Authorization: Bearer %s\n", token)
}
