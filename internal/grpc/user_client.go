package grpc

import (
	"context"
	"errors"

	userpb "messenger-service/pb/user"
)

// UserProfile is the subset of user-service data the messenger needs
// when composing conversation summaries.
type UserProfile struct {
	ID          int
	Username    string
	DisplayName string
	AvatarURL   string
}

// UserClient wraps the user-service gRPC client.
type UserClient struct {
	client userpb.UserInternalClient
}

// NewUserClient constructs the wrapper.
func NewUserClient(client userpb.UserInternalClient) *UserClient {
	return &UserClient{client: client}
}

// AreFriends verifies friendship between two users.
func (u *UserClient) AreFriends(ctx context.Context, userID, friendID int) (bool, error) {
	resp, err := u.client.AreFriends(ctx, &userpb.AreFriendsRequest{UserId: int64(userID), FriendId: int64(friendID)})
	if err != nil {
		return false, err
	}
	return resp.GetAreFriends(), nil
}

// GetUser retrieves a single user profile.
func (u *UserClient) GetUser(ctx context.Context, userID int) (UserProfile, error) {
	resp, err := u.client.GetUser(ctx, &userpb.GetUserRequest{UserId: int64(userID)})
	if err != nil {
		return UserProfile{}, err
	}
	if resp == nil || resp.GetId() == 0 {
		return UserProfile{}, errors.New("user not found")
	}
	return profileFromPB(resp), nil
}

// BulkUsers fetches profiles for the given ids in one call, keyed by id.
// Ids the user service does not know are absent from the result.
func (u *UserClient) BulkUsers(ctx context.Context, ids []int) (map[int]UserProfile, error) {
	if len(ids) == 0 {
		return map[int]UserProfile{}, nil
	}
	id64s := make([]int64, 0, len(ids))
	for _, id := range ids {
		id64s = append(id64s, int64(id))
	}

	resp, err := u.client.BulkUsers(ctx, &userpb.BulkUsersRequest{Ids: id64s})
	if err != nil {
		return nil, err
	}
	profiles := make(map[int]UserProfile, len(resp.GetUsers()))
	for _, pb := range resp.GetUsers() {
		p := profileFromPB(pb)
		profiles[p.ID] = p
	}
	return profiles, nil
}

func profileFromPB(pb *userpb.GetUserResponse) UserProfile {
	return UserProfile{
		ID:          int(pb.GetId()),
		Username:    pb.GetUsername(),
		DisplayName: pb.GetDisplayName(),
		AvatarURL:   pb.GetAvatarUrl(),
	}
}
