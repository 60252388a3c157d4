package graph

import (
	"time"

	"github.com/graphql-go/graphql"

	"github.com/nightfall-hq/gatehouse/internal/auth"
	"github.com/nightfall-hq/gatehouse/internal/auth/mfa"
	"github.com/nightfall-hq/gatehouse/internal/models"
)

// NewSchema assembles the executable GraphQL schema around the resolver.
func NewSchema(r *Resolver) (graphql.Schema, error) {
	userType := graphql.NewObject(graphql.ObjectConfig{
		Name: "User",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return userFrom(p.Source).ID, nil
				},
			},
			"email": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return userFrom(p.Source).Email, nil
				},
			},
			"isEmailVerified": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return userFrom(p.Source).IsEmailVerified, nil
				},
			},
			"twoFactorEnabled": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return userFrom(p.Source).TwoFactorEnabled(), nil
				},
			},
			"createdAt": &graphql.Field{
				Type: graphql.NewNonNull(graphql.DateTime),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return userFrom(p.Source).CreatedAt, nil
				},
			},
		},
	})

	sessionType := graphql.NewObject(graphql.ObjectConfig{
		Name: "UserSession",
		Fields: graphql.Fields{
			"id": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return sessionFrom(p.Source).ID, nil
				},
			},
			"userId": &graphql.Field{
				Type: graphql.NewNonNull(graphql.ID),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return sessionFrom(p.Source).UserID, nil
				},
			},
			"expiresAt": &graphql.Field{
				Type: graphql.NewNonNull(graphql.DateTime),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return sessionFrom(p.Source).ExpiresAt, nil
				},
			},
			"createdAt": &graphql.Field{
				Type: graphql.NewNonNull(graphql.DateTime),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return sessionFrom(p.Source).CreatedAt, nil
				},
			},
		},
	})

	enrollmentType := graphql.NewObject(graphql.ObjectConfig{
		Name: "TwoFactorEnrollment",
		Fields: graphql.Fields{
			"secret": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return enrollmentFrom(p.Source).Secret, nil
				},
			},
			"otpauthUrl": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return enrollmentFrom(p.Source).OTPAuthURL, nil
				},
			},
			"qrCode": &graphql.Field{
				Type:        graphql.NewNonNull(graphql.String),
				Description: "Base64-encoded PNG of the provisioning QR code.",
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return encodePNG(enrollmentFrom(p.Source).QRCodePNG), nil
				},
			},
			"recoveryCodes": &graphql.Field{
				Type: graphql.NewNonNull(graphql.NewList(graphql.NewNonNull(graphql.String))),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return enrollmentFrom(p.Source).RecoveryCodes, nil
				},
			},
		},
	})

	queryType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"viewer": &graphql.Field{
				Type: userType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return r.viewer(p.Context)
				},
			},
			"sessions": &graphql.Field{
				Type: graphql.NewList(graphql.NewNonNull(sessionType)),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return r.viewerSessions(p.Context)
				},
			},
		},
	})

	mutationType := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"signUp": &graphql.Field{
				Type: userType,
				Args: graphql.FieldConfigArgument{
					"email":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"password": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					email, _ := p.Args["email"].(string)
					password, _ := p.Args["password"].(string)
					return r.signUp(p.Context, email, password)
				},
			},
			"signIn": &graphql.Field{
				Type: sessionType,
				Args: graphql.FieldConfigArgument{
					"email":         &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"password":      &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"expiresAt":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.DateTime)},
					"twoFactorCode": &graphql.ArgumentConfig{Type: graphql.String},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					email, _ := p.Args["email"].(string)
					password, _ := p.Args["password"].(string)
					code, _ := p.Args["twoFactorCode"].(string)
					expiresAt, err := coerceTime(p.Args["expiresAt"])
					if err != nil {
						return nil, auth.ErrInvalidExpiration
					}
					return r.signIn(p.Context, email, password, expiresAt, code)
				},
			},
			"deleteSession": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return r.deleteSession(p.Context)
				},
			},
			"enrollTwoFactor": &graphql.Field{
				Type: enrollmentType,
				Args: graphql.FieldConfigArgument{
					"password": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					password, _ := p.Args["password"].(string)
					return r.enrollTwoFactor(p.Context, password)
				},
			},
			"activateTwoFactor": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"code": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					code, _ := p.Args["code"].(string)
					return r.activateTwoFactor(p.Context, code)
				},
			},
			"disableTwoFactor": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"password": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"code":     &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					password, _ := p.Args["password"].(string)
					code, _ := p.Args["code"].(string)
					return r.disableTwoFactor(p.Context, password, code)
				},
			},
			"verifyEmail": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"token": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					token, _ := p.Args["token"].(string)
					return r.verifyEmail(p.Context, token)
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    queryType,
		Mutation: mutationType,
	})
}

func userFrom(source interface{}) *models.User {
	switch v := source.(type) {
	case *models.User:
		return v
	case models.User:
		return &v
	default:
		return &models.User{}
	}
}

func sessionFrom(source interface{}) *models.UserSession {
	switch v := source.(type) {
	case *models.UserSession:
		return v
	case models.UserSession:
		return &v
	default:
		return &models.UserSession{}
	}
}

func enrollmentFrom(source interface{}) *mfa.Enrollment {
	if v, ok := source.(*mfa.Enrollment); ok {
		return v
	}
	return &mfa.Enrollment{}
}

// coerceTime accepts both coerced time.Time values and raw RFC3339 strings so
// the resolver does not depend on the engine's literal-vs-variable handling.
func coerceTime(value interface{}) (time.Time, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		return time.Parse(time.RFC3339, v)
	default:
		return time.Time{}, auth.ErrInvalidExpiration
	}
}
