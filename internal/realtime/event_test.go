package realtime

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"driveline/market/internal/utils"
)

func TestTopicHelpersLowercase(t *testing.T) {
	assert.Equal(t, "location:austin:tx", LocationTopic("Austin", "TX"))
	assert.Equal(t, "make:toyota", MakeTopic("Toyota"))
	assert.Equal(t, "bodyType:suv", BodyTypeTopic("SUV"))
}

func TestIsPublicTopic(t *testing.T) {
	assert.True(t, IsPublicTopic(TopicFeed))
	assert.True(t, IsPublicTopic("location:austin:tx"))
	assert.True(t, IsPublicTopic("make:honda"))
	assert.True(t, IsPublicTopic("bodyType:sedan"))
	assert.False(t, IsPublicTopic("user:abc123"))
	assert.False(t, IsPublicTopic("admin"))
}

func TestCanJoinPersonalTopics(t *testing.T) {
	hub := NewHub()
	userID := utils.NewSixID()

	owner := NewClient(hub, nil, userID.String())
	guest := NewClient(hub, nil, "")
	other := NewClient(hub, nil, utils.NewSixID().String())

	personal := UserTopic(userID)

	assert.True(t, owner.CanJoin(personal))
	assert.False(t, guest.CanJoin(personal))
	assert.False(t, other.CanJoin(personal))

	assert.True(t, guest.CanJoin(TopicFeed))
	assert.True(t, guest.CanJoin("make:ford"))
}
